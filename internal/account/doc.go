// Package account derives account identity from credential file names.
//
// Every account is described by exactly one client-configuration file in the
// store directory. The file name alone determines the provider kind and the
// account identifier:
//
//	gmail_credentials.json        -> gmail
//	gmail_account3.json           -> account3
//	gmail_credentials_Work.json   -> work
//	outlook_credentials.json      -> outlook
//
// Names containing "token" are never credential files. The functions in this
// package are pure and do no I/O.
package account
