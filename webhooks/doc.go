// Package webhooks contains signature verification primitives shared by the
// provider codecs.
//
// Verification always runs over the exact raw bytes received. Comparisons use
// constant-time equality.
package webhooks
