package locale

import (
	"fmt"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	t.Parallel()

	if got := Get("en-US").Welcome; !strings.HasPrefix(got, "Welcome") {
		t.Fatalf("expected english catalog, got %q", got)
	}
	if got := Get("").Welcome; got != "欢迎使用" {
		t.Fatalf("expected chinese default, got %q", got)
	}
	if got := fmt.Sprintf(Get(EnUS).ContactFound, "Alice (ally)"); got != "Alice (ally) is current contact" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()

	c := Get(ZhCN)
	c.Welcome = "changed"
	if Get(ZhCN).Welcome == "changed" {
		t.Fatal("catalog must not share state")
	}
}

func TestHelpListsEveryCommand(t *testing.T) {
	t.Parallel()

	commands := []string{"/start", "/login", "/logout", "/stop", "/groupon", "/groupoff", "/officialon",
		"/officialoff", "/selfon", "/selfoff", "/find", "/lock", "/unlock", "/findandlock", "/current",
		"/agree", "/disagree", "/acceptroom", "/forward", "/mute", "/unmute", "/soundonly", "/nameonly",
		"/quitroom", "/uptime", "/help"}
	for _, lang := range []string{ZhCN, EnUS} {
		help := Get(lang).Help
		for _, cmd := range commands {
			if !strings.Contains(help, cmd+" ") {
				t.Fatalf("%s help is missing %s", lang, cmd)
			}
		}
	}
}

func TestGenderName(t *testing.T) {
	t.Parallel()

	c := Get(EnUS)
	if c.GenderName(1) != "Male" || c.GenderName(9) != "Unknown" {
		t.Fatalf("unexpected gender names")
	}
}
