package cli

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"

	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
)

// MainLoop runs interactive prompt on terminal, otherwise executes stdin line by line.
// exec returns false to quit.
func MainLoop(tag string, in io.Reader, exec func(line string) bool, complete func(d prompt.Document) []prompt.Suggest) error {
	if f, ok := in.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		p := prompt.New(
			func(line string) {
				if !exec(line) {
					// go-prompt v0.2.3 has no way to stop Run
					os.Exit(0)
				}
			},
			complete,
			prompt.OptionPrefix(tag+"> "),
			prompt.OptionTitle(tag),
		)
		p.Run()
		return nil
	}

	all, err := ioutil.ReadAll(in)
	if err != nil {
		return errors.Annotate(err, "read input")
	}
	for _, lineb := range bytes.Split(all, []byte{'\n'}) {
		line := string(bytes.TrimSpace(lineb))
		if line == "" {
			continue
		}
		if !exec(line) {
			break
		}
	}
	return nil
}
