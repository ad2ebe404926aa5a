package sanitize

import (
	"io"
	"strings"
	"testing"
)

func TestParseDefinerMode(t *testing.T) {
	tests := []struct {
		input    string
		expected DefinerMode
		wantErr  bool
	}{
		{"strip", DefinerStrip, false},
		{"", DefinerStrip, false},
		{"rewrite", DefinerRewrite, false},
		{"rewrite-to-current-user", DefinerRewrite, false},
		{"passthrough", DefinerPassthrough, false},
		{"delete", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDefinerMode(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.expected {
				t.Errorf("ParseDefinerMode(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

const viewLine = "/*!50013 DEFINER=`root`@`localhost` SQL SECURITY DEFINER */\n"

func TestApplyDefinerStrip(t *testing.T) {
	out := ApplyDefiner(viewLine, DefinerStrip)
	if strings.Contains(out, "DEFINER") && strings.Contains(out, "root") {
		t.Errorf("strip left a definer owner: %q", out)
	}
	if strings.Contains(out, "DEFINER=") {
		t.Errorf("strip left a DEFINER clause: %q", out)
	}
}

func TestApplyDefinerStripLeavesOtherBytesAlone(t *testing.T) {
	// Doubled spaces outside the clause, including string literals, must
	// survive strip byte-for-byte.
	lines := []string{
		"INSERT INTO t VALUES ('a  b');\n",
		"-- aligned  comment   block\n",
		"SELECT 'first   second';\n",
	}
	for _, line := range lines {
		if out := ApplyDefiner(line, DefinerStrip); out != line {
			t.Errorf("clause-free line modified:\ngot  %q\nwant %q", out, line)
		}
	}

	// At the removal site the surrounding keywords end up single-spaced
	got := ApplyDefiner("CREATE DEFINER=`admin`@`%` PROCEDURE p()\n", DefinerStrip)
	if got != "CREATE PROCEDURE p()\n" {
		t.Errorf("strip spacing wrong: %q", got)
	}
}

func TestApplyDefinerRewrite(t *testing.T) {
	out := ApplyDefiner(viewLine, DefinerRewrite)
	if !strings.Contains(out, "DEFINER=CURRENT_USER") {
		t.Errorf("rewrite missing CURRENT_USER: %q", out)
	}
	if strings.Contains(out, "root") {
		t.Errorf("rewrite kept original owner: %q", out)
	}
}

func TestApplyDefinerPassthrough(t *testing.T) {
	if out := ApplyDefiner(viewLine, DefinerPassthrough); out != viewLine {
		t.Errorf("passthrough modified the line: %q", out)
	}
}

func TestDefinerPatternVariants(t *testing.T) {
	lines := []string{
		"CREATE DEFINER=`admin`@`10.0.%` PROCEDURE sync_users()",
		"CREATE DEFINER='admin'@'10.0.%' TRIGGER trg BEFORE INSERT ON t",
		"CREATE DEFINER=admin@localhost EVENT ev ON SCHEDULE EVERY 1 DAY",
	}

	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			if !definerPattern.MatchString(line) {
				t.Errorf("pattern did not match: %q", line)
			}
			out := ApplyDefiner(line, DefinerRewrite)
			if !strings.Contains(out, "DEFINER=CURRENT_USER") {
				t.Errorf("rewrite failed: %q", out)
			}
		})
	}
}

func TestNewDefinerFilterStream(t *testing.T) {
	input := "CREATE TABLE users (id int);\n" +
		viewLine +
		"INSERT INTO users VALUES (1);\n"

	out, err := io.ReadAll(NewDefinerFilter(strings.NewReader(input), DefinerStrip))
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	s := string(out)
	if strings.Contains(s, "DEFINER=") {
		t.Errorf("DEFINER survived strip: %q", s)
	}
	if !strings.Contains(s, "CREATE TABLE users") || !strings.Contains(s, "INSERT INTO users") {
		t.Errorf("unrelated lines damaged: %q", s)
	}
}

func TestNewDefinerFilterPassthroughIsIdentity(t *testing.T) {
	// No trailing newline, binary-ish content: passthrough must be byte-identical
	input := "CREATE DEFINER=`r`@`h` VIEW v AS SELECT 1"
	out, err := io.ReadAll(NewDefinerFilter(strings.NewReader(input), DefinerPassthrough))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != input {
		t.Errorf("passthrough not identical: %q", string(out))
	}
}

func TestLineFilterHandlesMissingTrailingNewline(t *testing.T) {
	input := "DEFINER=`a`@`b` last line without newline"
	out, err := io.ReadAll(NewDefinerFilter(strings.NewReader(input), DefinerStrip))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(out), "DEFINER=") {
		t.Errorf("trailing fragment not filtered: %q", string(out))
	}
}
