// Package providers models each payment provider as a codec: a verifier and
// a parser selected together by provider tag. The registry is built once at
// startup and never mutated afterwards.
package providers
