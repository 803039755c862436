package supervisor

import (
	"slices"
	"testing"
)

func TestNewParams(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "forwards arguments in order",
			args: []string{"a", "b"},
			want: []string{"/usr/bin/python", "/server.py", "a", "b"},
		},
		{
			name: "no extra arguments",
			args: []string{},
			want: []string{"/usr/bin/python", "/server.py"},
		},
		{
			name: "nil arguments",
			args: nil,
			want: []string{"/usr/bin/python", "/server.py"},
		},
		{
			name: "values are not modified",
			args: []string{"", "--flag=x", "with space", "/host/fifo"},
			want: []string{"/usr/bin/python", "/server.py", "", "--flag=x", "with space", "/host/fifo"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewParams(DefaultWorkload, tt.args).Argv()
			if !slices.Equal(got, tt.want) {
				t.Errorf("NewParams(%q) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestParams_Immutable(t *testing.T) {
	args := []string{"a", "b"}
	p := NewParams(DefaultWorkload, args)

	// Neither the caller's slice nor a returned copy can change p
	args[0] = "mutated"
	argv := p.Argv()
	argv[2] = "mutated"
	prefix := p.Prefix()
	prefix[0] = "/bin/false"

	want := []string{"/usr/bin/python", "/server.py", "a", "b"}
	if got := p.Argv(); !slices.Equal(got, want) {
		t.Errorf("params changed after mutation: got %q, want %q", got, want)
	}
}

func TestParams_PrefixAndString(t *testing.T) {
	p := NewParams(Workload{Interpreter: "/bin/sh", Script: "/work.sh"}, []string{"x"})

	if got := p.Prefix(); !slices.Equal(got, []string{"/bin/sh", "/work.sh"}) {
		t.Errorf("Prefix() = %q", got)
	}
	if got := p.String(); got != "/bin/sh /work.sh x" {
		t.Errorf("String() = %q", got)
	}
}
