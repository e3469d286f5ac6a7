package dialer

import (
	"path/filepath"
	"testing"
)

func TestChromeConfigDefaults(t *testing.T) {
	t.Parallel()
	var c ChromeConfig
	c.applyDefaults()
	if c.CallURL != DefaultCallURL || c.DialInputID != "il1" || c.PageTimeout != DefaultPageTimeout {
		t.Fatalf("defaults not applied: %+v", c)
	}
	if len(c.HangUpSelectors) != 3 {
		t.Fatalf("hang-up selectors = %v", c.HangUpSelectors)
	}

	custom := ChromeConfig{CallURL: "https://example.test/call", HangUpSelectors: []string{"#end"}}
	custom.applyDefaults()
	if custom.CallURL != "https://example.test/call" || len(custom.HangUpSelectors) != 1 {
		t.Fatalf("custom values overwritten: %+v", custom)
	}
}

func TestCheckExecPath(t *testing.T) {
	t.Parallel()
	if err := (ChromeConfig{}).CheckExecPath(); err != nil {
		t.Fatalf("empty path should be accepted: %v", err)
	}
	missing := filepath.Join(t.TempDir(), "chrome")
	if err := (ChromeConfig{ExecPath: missing}).CheckExecPath(); err == nil {
		t.Fatal("missing binary should be a configuration error")
	}
}

func TestJSStringEscapesSelectors(t *testing.T) {
	t.Parallel()
	got := jsString(`span[gv-test-id="in-call-callduration"]`)
	want := `"span[gv-test-id=\"in-call-callduration\"]"`
	if got != want {
		t.Fatalf("jsString = %s, want %s", got, want)
	}
}
