package util

import (
	"errors"
	"gradeglide_backend/internal/model"
	"testing"
	"time"
)

func TestStripCodeFences(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n[1,2]\n```":         "[1,2]",
		"```{\"a\":1}```":         `{"a":1}`,
		"  {\"a\":1}  ":           `{"a":1}`,
	}
	for in, want := range cases {
		if got := StripCodeFences(in); got != want {
			t.Fatalf("StripCodeFences(%q): want=%q got=%q", in, want, got)
		}
	}
}

func TestParseModelJSON(t *testing.T) {
	var obj struct {
		Marks float64 `json:"obtained_marks"`
	}
	if err := ParseModelJSON("Sure! ```json\n{\"obtained_marks\": 2.5}\n``` hope that helps", &obj); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if obj.Marks != 2.5 {
		t.Fatalf("marks: want=2.5 got=%v", obj.Marks)
	}

	var list []interface{}
	if err := ParseModelJSON("[{\"q\":1}]", &list); err != nil || len(list) != 1 {
		t.Fatalf("list: got %v err=%v", list, err)
	}

	for _, raw := range []string{"", "no json here", "{broken"} {
		var v interface{}
		if err := ParseModelJSON(raw, &v); !errors.Is(err, ErrUnparsableResponse) {
			t.Fatalf("ParseModelJSON(%q): want ErrUnparsableResponse got %v", raw, err)
		}
	}
}

func TestMarksHelpers(t *testing.T) {
	if FormatMarks(nil) != "" || FormatMarks(Float64Ptr(2)) != "2" || FormatMarks(Float64Ptr(1.5)) != "1.5" {
		t.Fatalf("FormatMarks output unexpected")
	}
	if Round1(2.449) != 2.4 || Round1(2.25) != 2.3 {
		t.Fatalf("Round1: got %v %v", Round1(2.449), Round1(2.25))
	}
	if ClampMarks(-1, 3) != 0 || ClampMarks(4, 3) != 3 || ClampMarks(1.5, 3) != 1.5 {
		t.Fatalf("ClampMarks out of range")
	}
}

func TestFileHelpers(t *testing.T) {
	if !HasAllowedExt("Scan.PDF", AllowedSheetExtensions) || HasAllowedExt("notes", AllowedSheetExtensions) {
		t.Fatalf("HasAllowedExt mismatch")
	}
	if HasAllowedExt("key.heic", AllowedKeyExtensions) {
		t.Fatalf("heic is not an answer key format")
	}
	if !IsPDF("upload.bin", []byte("%PDF-1.7")) || IsPDF("a.png", []byte("\x89PNG")) {
		t.Fatalf("IsPDF mismatch")
	}
	if Truncate("Ωhm's law", 3) != "Ωhm" || Truncate("abc", 0) != "" || Truncate("ab", 5) != "ab" {
		t.Fatalf("Truncate mismatch")
	}
}

func TestJWTRoundTrip(t *testing.T) {
	user := &model.User{Email: "teacher@example.com", Role: model.Teacher}
	user.ID = 7
	secret := "0123456789abcdef0123456789abcdef"

	token, err := GenerateJWT(user, secret, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := ParseJWT(token, secret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != 7 || claims.Email != user.Email || claims.Role != model.Teacher {
		t.Fatalf("claims: got %+v", claims)
	}

	if _, err := ParseJWT(token, "another-secret-another-secret-xx"); err == nil {
		t.Fatalf("want error for wrong secret")
	}
	expired, _ := GenerateJWT(user, secret, -time.Minute)
	if _, err := ParseJWT(expired, secret); err == nil {
		t.Fatalf("want error for expired token")
	}
}
