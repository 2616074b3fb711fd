// Package tokenizer provides header element-list tokenization using Shape's tokenizer framework.
package tokenizer

// Token type constants for comma-separated header values such as
// "Connection: keep-alive, Upgrade" or "Transfer-Encoding: gzip, chunked".
const (
	TokenElement = "Element" // one list member, parameters included
	TokenComma   = "Comma"   // ,
	TokenOWS     = "OWS"     // optional whitespace around members
)
