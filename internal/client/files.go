package client

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/kstaniek/go-osc-bridge/internal/crc16"
	"github.com/kstaniek/go-osc-bridge/internal/filesystem"
)

// ReadFile returns the content of name on the device.
func (c *Client) ReadFile(ctx context.Context, name string) ([]byte, error) {
	resp, err := c.Request(ctx, filesystem.AddrFileRead, name)
	if err != nil {
		return nil, err
	}
	data, ok := bytes.CutPrefix(resp.Raw, []byte(filesystem.FileMarker))
	if !ok {
		return nil, fmt.Errorf("read %s: unexpected response %q", name, truncate(resp.Raw))
	}
	return data, nil
}

// WriteFile stores content as name. The device writes to a temp file and
// only replaces name once the checksum matches.
func (c *Client) WriteFile(ctx context.Context, name string, content []byte) error {
	if len(content) == 0 {
		return ErrEmptyFile
	}
	dir, base := splitPath(name)
	sum := crc16.Checksum(content)
	_, err := c.do(ctx, filesystem.AddrFileWrite, []any{dir, base, int32(sum)}, content)
	return err
}

// RemoveFile deletes name.
func (c *Client) RemoveFile(ctx context.Context, name string) error {
	_, err := c.Request(ctx, filesystem.AddrFileRemove, name)
	return err
}

// RemoveDir deletes name and everything below it. A missing directory is
// not an error.
func (c *Client) RemoveDir(ctx context.Context, name string) error {
	_, err := c.Request(ctx, filesystem.AddrDirRemove, name)
	return err
}

// ListDir returns the entries of name, descending into subdirectories when
// recursive is set.
func (c *Client) ListDir(ctx context.Context, name string, recursive bool) ([]*DirItem, error) {
	flag := int32(0)
	if recursive {
		flag = 1
	}
	resp, err := c.Request(ctx, filesystem.AddrDirList, name, flag)
	if err != nil {
		return nil, err
	}
	list, ok := bytes.CutPrefix(resp.Raw, []byte(filesystem.DirMarker))
	if !ok {
		return nil, fmt.Errorf("list %s: unexpected response %q", name, truncate(resp.Raw))
	}
	if len(list) == 0 {
		return []*DirItem{}, nil
	}
	return ParseDirList(string(list))
}

// Echo asks the device to return n.
func (c *Client) Echo(ctx context.Context, n int32) (int32, error) {
	resp, err := c.Request(ctx, "/echo/int", n)
	if err != nil {
		return 0, err
	}
	v, ok := resp.Value().(int32)
	if !ok {
		return 0, fmt.Errorf("echo: unexpected value %v", resp.Value())
	}
	return v, nil
}

// splitPath splits at the last "/". A name without one lands in the root.
func splitPath(name string) (dir, base string) {
	i := strings.LastIndexByte(name, '/')
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}

func truncate(p []byte) []byte {
	if len(p) > 32 {
		return p[:32]
	}
	return p
}
