package router

import "testing"

func TestExtractFeatures(t *testing.T) {
	f := ExtractFeatures("Write a function that must not call `sort`. Why? How?")

	if !f.ImperativeStart {
		t.Error("expected imperative start")
	}
	if !f.HasInlineCode {
		t.Error("expected inline code")
	}
	if f.HasCodeBlock {
		t.Error("did not expect a code block")
	}
	if !f.HasConstraints {
		t.Error("expected constraint marker")
	}
	if !f.HasNegation {
		t.Error("expected negation")
	}
	if f.Questions != 2 {
		t.Errorf("expected 2 questions, got %d", f.Questions)
	}
	if f.Words != 10 {
		t.Errorf("expected 10 words, got %d", f.Words)
	}
	if f.NonASCII {
		t.Error("did not expect non-ASCII")
	}
}

func TestExtractFeaturesCodeAndMath(t *testing.T) {
	f := ExtractFeatures("Given that x = 2 + 3, see:\n```go\nfmt.Println(x)\n```")

	if !f.HasCodeBlock {
		t.Error("expected code block")
	}
	if !f.HasMath {
		t.Error("expected math")
	}
	if !f.HasReferences {
		t.Error("expected reference marker")
	}
	if f.ImperativeStart {
		t.Error("did not expect imperative start")
	}
}

func TestExtractFeaturesTechnicalTerms(t *testing.T) {
	f := ExtractFeatures("Pick an algorithm for the database")
	if f.TechnicalTerms != 2 {
		t.Errorf("expected 2 technical terms, got %d", f.TechnicalTerms)
	}
}

func TestExtractFeaturesNonASCII(t *testing.T) {
	f := ExtractFeatures("héllo wörld")
	if !f.NonASCII {
		t.Error("expected non-ASCII")
	}
	if f.Chars != 11 {
		t.Errorf("expected 11 chars, got %d", f.Chars)
	}
}

func TestExtractFeaturesEmpty(t *testing.T) {
	f := ExtractFeatures("")
	if f != (Features{}) {
		t.Errorf("expected zero features, got %+v", f)
	}
}
