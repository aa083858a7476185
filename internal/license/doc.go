// Package license binds the SAKA QMS server to a single machine.
//
// The vendor signs the machine's hardware fingerprint with an RSA private
// key (Issuer); the server checks the signature with the public key compiled
// into the binary (Verifier). Manager ties the pieces together: it collects
// the fingerprint, verifies keys, stores the activation through a Store and
// answers Status for the HTTP gate.
//
// Everything works offline. There is no expiry and no revocation: a key is
// valid for as long as the hardware it was issued for stays the same.
package license
