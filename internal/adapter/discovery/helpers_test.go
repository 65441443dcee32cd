package discovery

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync/atomic"
)

// fakeEnv builds an Environment from maps so tests never touch the real host
func fakeEnv(vars map[string]string, files map[string]string) Environment {
	return Environment{
		LookupEnv: func(key string) (string, bool) {
			v, ok := vars[key]
			return v, ok
		},
		ReadFile: func(name string) ([]byte, error) {
			if content, ok := files[name]; ok {
				return []byte(content), nil
			}
			return nil, fs.ErrNotExist
		},
		Stat: func(name string) (os.FileInfo, error) {
			if _, ok := files[name]; ok {
				return nil, nil
			}
			return nil, fs.ErrNotExist
		},
		Environ: func() []string {
			out := make([]string, 0, len(vars))
			for k, v := range vars {
				out = append(out, k+"="+v)
			}
			return out
		},
	}
}

type countingResolver struct {
	err   error
	name  string
	addrs []string
	calls atomic.Int32
}

func (c *countingResolver) Name() string { return c.name }

func (c *countingResolver) ResolveService(_ context.Context, _ string) ([]string, error) {
	c.calls.Add(1)
	return c.addrs, c.err
}

var errResolverBroken = errors.New("resolver broken")
