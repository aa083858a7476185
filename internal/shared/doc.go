// Package shared holds helpers used across the SAKA QMS packages.
//
// The testutil subpackage provides the fixtures the license tests share:
// a once-generated RSA key pair, the reference fingerprints, a controllable
// fingerprint collector and a slog handler that captures records, used to
// check that license keys and passphrases stay out of the logs.
//
// Example usage:
//
//	func TestActivation(t *testing.T) {
//	    pair := testutil.KeyPair(t)
//	    collector := testutil.NewCollector(testutil.Fingerprint)
//	    logger, logs := testutil.NewTestLogger(t)
//	    ...
//	    testutil.AssertNotLogged(t, logs, licenseKey)
//	}
package shared
