// Package outlook implements the mail.Client capability set on top of the
// Microsoft Graph mail API.
//
// Reads without a filter list the inbox folder ordered by receivedDateTime;
// reads with a filter and searches use the Graph $search parameter, which
// cannot be combined with $orderby, so results are ordered locally.
package outlook
