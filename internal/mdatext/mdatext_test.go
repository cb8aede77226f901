package mdatext

import "testing"

func TestParseSerializeRoundTrip(t *testing.T) {
	src := `# a comment
vg0 {
	id = "ABCDEF-0123-4567-89AB-CDEF-0123-456789"
	seqno = 7
	status = ["RESIZEABLE", "READ", "WRITE"]
	physical_volumes {
		pv0 {
			id = "1111-2222-3333-4444-5555-6666-777788"
			pe_count = 100
		}
	}
}
`
	block, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	vg0 := block.GetBlock("vg0")
	if vg0 == nil {
		t.Fatalf("missing vg0 block")
	}
	if vg0.GetInt("seqno") != 7 {
		t.Fatalf("seqno = %d, want 7", vg0.GetInt("seqno"))
	}
	status := vg0.GetStrings("status")
	if len(status) != 3 || status[0] != "RESIZEABLE" {
		t.Fatalf("status = %v", status)
	}
	pvs := vg0.GetBlock("physical_volumes")
	pv0 := pvs.GetBlock("pv0")
	if pv0.GetInt("pe_count") != 100 {
		t.Fatalf("pe_count = %d, want 100", pv0.GetInt("pe_count"))
	}

	out := Serialize(block)
	reparsed, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse(Serialize()): %v", err)
	}
	out2 := Serialize(reparsed)
	if out != out2 {
		t.Fatalf("serialize(parse(serialize(x))) != serialize(x):\n%s\n---\n%s", out, out2)
	}
}

func TestParseRejectsUnterminatedBlock(t *testing.T) {
	_, err := Parse("vg0 {\n  seqno = 1\n")
	if err == nil {
		t.Fatalf("expected error for unterminated block")
	}
}

func TestOrderedSegments(t *testing.T) {
	src := `lv0 {
	segment1 {
		start_extent = 0
	}
	segment2 {
		start_extent = 10
	}
}
`
	block, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	lv0 := block.GetBlock("lv0")
	segs := lv0.Blocks()
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	if segs[0].Name != "segment1" || segs[1].Name != "segment2" {
		t.Fatalf("segments out of order: %v", segs)
	}
}
