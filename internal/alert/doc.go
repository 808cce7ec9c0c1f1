// Package alert gates error notifications on connection state.
//
// An alert fired while its service is reconnecting, or shortly after a
// reconnection completed, is expected noise. Gate consults the connection
// state store and tells the alerting caller whether to suppress. Missing
// records and store read failures allow the alert through.
package alert
