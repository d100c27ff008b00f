package jobkit

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/easyjob/am"
	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/logger"
	"github.com/teranos/easyjob/pathlock"
)

// DateLayout names the per-day cache directories.
const DateLayout = "2006-01-02"

// DumpCache stores fetched payloads under <dir>/<YYYY-MM-DD>/<name>, so a
// job rerun on the same day reuses what the last run downloaded. Reads and
// writes of one file are serialized through a shared pathlock.Table.
type DumpCache struct {
	dir   string
	locks *pathlock.Table
	now   func() time.Time
	log   *zap.SugaredLogger
}

// NewDumpCache creates a cache rooted at dir. locks may be shared with
// other cache users in the process; nil creates a private table.
func NewDumpCache(dir string, locks *pathlock.Table, log *zap.SugaredLogger) *DumpCache {
	if locks == nil {
		locks = pathlock.New()
	}
	if log == nil {
		log = logger.ComponentLogger("jobkit.cache")
	}
	return &DumpCache{dir: dir, locks: locks, now: time.Now, log: log}
}

// Dir returns the cache root.
func (c *DumpCache) Dir() string { return c.dir }

// Path returns where name is stored for the given day.
func (c *DumpCache) Path(name string, day time.Time) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	return filepath.Join(c.dir, day.Format(DateLayout), name), nil
}

// Get reads today's copy of name. A missing file is not an error.
func (c *DumpCache) Get(name string) ([]byte, bool, error) {
	return c.GetOn(name, c.now())
}

// GetOn reads the copy of name stored on day.
func (c *DumpCache) GetOn(name string, day time.Time) ([]byte, bool, error) {
	path, err := c.Path(name, day)
	if err != nil {
		return nil, false, err
	}

	var data []byte
	err = c.locks.With(path, func() error {
		var rerr error
		data, rerr = os.ReadFile(path)
		return rerr
	})
	if os.IsNotExist(err) {
		c.log.Debugw("Dump not cached", logger.FieldPath, path)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to read dump %s", path)
	}
	c.log.Debugw("Dump read", logger.FieldPath, path)
	return data, true, nil
}

// Put replaces today's copy of name. The write goes through a temp file
// and a rename so readers never see a partial payload.
func (c *DumpCache) Put(name string, data []byte) error {
	path, err := c.Path(name, c.now())
	if err != nil {
		return err
	}

	return c.locks.With(path, func() error {
		if err := os.MkdirAll(filepath.Dir(path), am.DefaultDirPermissions); err != nil {
			return errors.Wrapf(err, "failed to create dump directory for %s", name)
		}
		tmp, err := os.CreateTemp(filepath.Dir(path), "."+name+".*")
		if err != nil {
			return errors.Wrap(err, "failed to create temp dump")
		}
		defer os.Remove(tmp.Name())

		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			return errors.Wrapf(err, "failed to write dump %s", name)
		}
		if err := tmp.Close(); err != nil {
			return errors.Wrapf(err, "failed to close dump %s", name)
		}
		if err := os.Rename(tmp.Name(), path); err != nil {
			return errors.Wrapf(err, "failed to move dump into place at %s", path)
		}
		c.log.Debugw("Dump saved", logger.FieldPath, path, logger.FieldCount, len(data))
		return nil
	})
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return errors.NewInvalidRequestError("invalid dump name %q", name)
	}
	return nil
}
