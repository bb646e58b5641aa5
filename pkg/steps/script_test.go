package steps

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseScript(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   []Command
	}{
		{
			name:   "single command",
			script: "python hyper.py",
			want: []Command{
				{Line: 1, Text: "python hyper.py", Args: []string{"python", "hyper.py"}},
			},
		},
		{
			name:   "and chain",
			script: "unzip beam.zip && mv beam github_csv && python run.py",
			want: []Command{
				{Line: 1, Text: "unzip beam.zip", Args: []string{"unzip", "beam.zip"}},
				{Line: 1, Text: "mv beam github_csv", Args: []string{"mv", "beam", "github_csv"}},
				{Line: 1, Text: "python run.py", Args: []string{"python", "run.py"}},
			},
		},
		{
			name:   "lines comments and blanks",
			script: "# setup\n\npip install -r requirements.txt\n  python run.py --fast\n",
			want: []Command{
				{Line: 3, Text: "pip install -r requirements.txt", Args: []string{"pip", "install", "-r", "requirements.txt"}},
				{Line: 4, Text: "python run.py --fast", Args: []string{"python", "run.py", "--fast"}},
			},
		},
		{
			name:   "trailing and joins lines",
			script: "make deps &&\n  make build",
			want: []Command{
				{Line: 1, Text: "make deps", Args: []string{"make", "deps"}},
				{Line: 2, Text: "make build", Args: []string{"make", "build"}},
			},
		},
		{
			name:   "prefix assignment stays discrete",
			script: "PYTHONPATH=src python run.py\necho done-ok # trailing comment",
			want: []Command{
				{Line: 1, Text: "PYTHONPATH=src python run.py", Args: []string{"PYTHONPATH=src", "python", "run.py"}},
				{Line: 2, Text: "echo done-ok", Args: []string{"echo", "done-ok"}},
			},
		},
		{
			name:   "backslash continuation",
			script: "echo one \\\n  two\necho three",
			want: []Command{
				{Line: 1, Text: "echo one    two", Args: []string{"echo", "one", "two"}},
				{Line: 3, Text: "echo three", Args: []string{"echo", "three"}},
			},
		},
		{
			name:   "quoted operator",
			script: `echo "a && b" && echo 'c && d'`,
			want: []Command{
				{Line: 1, Text: `echo "a && b"`, Args: []string{"echo", "a && b"}},
				{Line: 1, Text: `echo 'c && d'`, Args: []string{"echo", "c && d"}},
			},
		},
		{
			name:   "single ampersand and pipes stay whole",
			script: "sleep 1 & wait | cat || true",
			want: []Command{
				{Line: 1, Text: "sleep 1 & wait | cat || true", Args: []string{"sleep", "1", "&", "wait", "|", "cat", "||", "true"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScript(tt.script)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseScript_OneShell(t *testing.T) {
	tests := []struct {
		name   string
		script string
		line   int
	}{
		{"if block", "if [ -f beam.zip ]; then\n  unzip beam.zip\nfi\npython run.py", 1},
		{"for loop", "for f in *.zip; do unzip \"$f\"; done", 1},
		{"case", "case \"$MODE\" in\n  fast) python run.py --fast ;;\nesac", 1},
		{"cd", "cd sub\npython run.py", 1},
		{"export", "export PYTHONPATH=src && python run.py", 1},
		{"assignment", "\n\nMODE=fast\npython run.py --mode \"$MODE\"", 3},
		{"command substitution", "echo $(true && echo hi)", 1},
		{"quoted substitution", `echo "$(date)" && ls`, 1},
		{"backticks", "echo `pwd` && ls", 1},
		{"subshell", "(cd app && make) && ls", 1},
		{"heredoc", "cat <<EOF > run.cfg\nit's here\nEOF\npython run.py", 1},
		{"group", "true && { echo a; echo b; }", 1},
		{"state after separator", "unzip beam.zip;cd beam\npython run.py", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScript(tt.script)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			want := []Command{{Line: tt.line, Text: strings.TrimSpace(tt.script)}}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseScript_Errors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		errMsg string
	}{
		{"empty", "", "script has no commands"},
		{"only comments", "# nothing\n\n", "script has no commands"},
		{"leading operator", "&& ls", "line 1: missing command before &&"},
		{"trailing operator", "echo a\nls &&", "line 2: missing command after &&"},
		{"unterminated quote", "echo ok\necho \"open", "line 2: unterminated quote"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScript(tt.script)
			mustContain(t, err, tt.errMsg)
		})
	}
}
