package kernelsnap

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ParseConfigFile reads and parses the kernel configuration at path.
// Paths ending in .gz are decompressed first. Open and read failures are
// returned wrapped, so errors.Is still matches fs.ErrNotExist and friends.
func ParseConfigFile(path string) (*KernelConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open kernel config: %w", err)
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("decompress kernel config %q: %w", path, err)
		}
		defer gr.Close()
		reader = gr
	}

	kc, err := ParseConfig(reader)
	if err != nil {
		return nil, fmt.Errorf("read kernel config %q: %w", path, err)
	}
	return kc, nil
}

// ParseConfig tokenizes kernel configuration lines from r.
//
// Every line is trimmed and split on each '='. Only lines producing exactly
// two tokens are considered; both tokens are upper-cased and the key is
// added to the builtin set for Y and to the module set for M. Anything
// else (comments, blank lines, strings, numbers, A=B=C) is skipped.
func ParseConfig(r io.Reader) (*KernelConfig, error) {
	var builtin, modules []string
	br := bufio.NewReader(r)

	for {
		line, err := br.ReadString('\n')
		if line != "" {
			if key, value, ok := splitConfigLine(line); ok {
				switch value {
				case "Y":
					builtin = append(builtin, key)
				case "M":
					modules = append(modules, key)
				}
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	return NewKernelConfig(builtin, modules), nil
}

// splitConfigLine returns the upper-cased key and value of a KEY=VALUE line.
// Lines of any length are accepted.
func splitConfigLine(line string) (key, value string, ok bool) {
	tok := strings.Split(strings.TrimSpace(line), "=")
	if len(tok) != 2 {
		return "", "", false
	}
	return strings.ToUpper(tok[0]), strings.ToUpper(tok[1]), true
}
