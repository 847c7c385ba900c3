// Package selector evaluates ordered CSS selector fallback lists.
//
// A List holds the compiled candidates for one logical field. Text and Attr
// return the value of the first candidate that yields a non-empty result.
// All returns every match of the first candidate that matches at all;
// matches of later candidates are never merged in, so a page that satisfies
// two candidates is not extracted twice.
//
// Evaluation is pure: it reads the document and never modifies it.
package selector
