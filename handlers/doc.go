// Package handlers binds provider event types to billing collaborators.
//
// Each lifecycle (subscriptions, payments, invoices) is an interface the
// host application implements; the Register helpers wire its methods into a
// handler registry under the event types the providers actually send.
// Handlers extract the fields the collaborator needs from the normalized
// payload and classify missing data as terminal, since redelivery cannot
// repair a payload.
package handlers
