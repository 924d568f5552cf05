// Package normalize implements the display pipeline applied to every log
// line before delivery: timestamp and stream defaults, capture prefix
// stripping, sensitive-content redaction, boilerplate filtering, and an
// ordered chain of identifier strip rules.
package normalize
