// Package linkcheck implements the link-classification pipeline: the URL
// classifier, the redirect resolver that corrects KBART records in place, and
// the collection scanner that partitions a KBART stream into error and
// redirect lists for reporting.
package linkcheck
