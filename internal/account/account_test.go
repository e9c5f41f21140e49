package account

import "testing"

func TestParseSecurity(t *testing.T) {
	cases := []struct {
		in   string
		want Security
	}{
		{"STARTTLS", SecurityStartTLS},
		{"starttls", SecurityStartTLS},
		{"  StartTLS  ", SecurityStartTLS},
		{"NONE", SecurityCleartext},
		{"none", SecurityCleartext},
		{"TLS", SecurityImplicitTLS},
		{"", SecurityImplicitTLS},
		{"bogus", SecurityImplicitTLS},
	}
	for _, c := range cases {
		if got := ParseSecurity(c.in); got != c.want {
			t.Errorf("ParseSecurity(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestNormalizeKey(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Alice@Example.com", "alice_example_com"},
		{"  bob@work.org  ", "bob_work_org"},
		{"weird+chars!@host.io", "weird_chars_host_io"},
	}
	for _, c := range cases {
		if got := NormalizeKey(c.in); got != c.want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
