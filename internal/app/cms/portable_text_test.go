package cms

import (
	"encoding/json"
	"testing"
)

func TestPlainText(t *testing.T) {
	body := json.RawMessage(`[
		{"_type":"block","style":"h2","children":[{"_type":"span","text":"Intro"}]},
		{"_type":"image","asset":{"_ref":"image-1"}},
		{"_type":"block","children":[{"_type":"span","text":"Hello, "},{"_type":"span","text":"world"}]},
		{"_type":"block","style":"normal","children":[{"_type":"span","text":"   "}]}
	]`)

	got := PlainText(body)
	if len(got) != 2 {
		t.Fatalf("expected 2 paragraphs, got %d: %+v", len(got), got)
	}
	if got[0] != (Paragraph{Style: "h2", Text: "Intro"}) {
		t.Fatalf("unexpected heading %+v", got[0])
	}
	if got[1] != (Paragraph{Style: "normal", Text: "Hello, world"}) {
		t.Fatalf("unexpected paragraph %+v", got[1])
	}

	if PlainText(nil) != nil {
		t.Fatal("empty body should give nil")
	}
	if PlainText(json.RawMessage(`{"not":"a list"}`)) != nil {
		t.Fatal("malformed body should give nil")
	}
}
