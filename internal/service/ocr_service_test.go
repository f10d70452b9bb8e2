package service

import "testing"

func TestParseTesseractTSV(t *testing.T) {
	tsv := "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
		"1\t1\t0\t0\t0\t0\t0\t0\t800\t1100\t-1\t\n" +
		"5\t1\t1\t1\t1\t1\t40\t120\t30\t18\t96.5\tQ1\n" +
		"5\t1\t1\t1\t1\t2\t80\t121\t60\t18\t88\tOhm's\n" +
		"5\t1\t1\t1\t1\t3\t150\t121\t40\t18\t91\t \n" +
		"5\t1\t1\t1\t1\t4\tbad\n"

	words := ParseTesseractTSV([]byte(tsv))
	if len(words) != 2 {
		t.Fatalf("words: want=2 got=%d (%+v)", len(words), words)
	}
	w := words[0]
	if w.Text != "Q1" || w.Confidence != 96.5 || w.Left != 40 || w.Top != 120 || w.Width != 30 || w.Height != 18 {
		t.Fatalf("first word: got %+v", w)
	}
	if words[1].Text != "Ohm's" {
		t.Fatalf("second word: got %q", words[1].Text)
	}
}

func TestParseTesseractTSVWithoutHeader(t *testing.T) {
	words := ParseTesseractTSV([]byte("5\t1\t1\t1\t1\t1\t0\t7\t10\t10\t70\t2)\n"))
	if len(words) != 1 || words[0].Top != 7 {
		t.Fatalf("want one word at top 7, got %+v", words)
	}
}
