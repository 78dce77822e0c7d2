// Package estimator holds the UI state of the estimate page: a Form that adds
// or edits one item, a Table that mirrors the store and its total, and a Root
// that routes the Table's edit signal into the Form.
//
// The components render nothing themselves. The web package turns their state
// into HTML and feeds user input back through their methods.
package estimator
