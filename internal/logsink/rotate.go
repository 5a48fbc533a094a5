package logsink

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// rotatedLayout is the suffix appended to a rotated file: the day it covers.
const rotatedLayout = "2006-01-02"

// dailyFile is an append-only file that rolls over at the first write after
// local midnight. The rotated file is renamed to <path>.<YYYY-MM-DD>.
type dailyFile struct {
	path       string
	keep       int
	now        func() time.Time
	f          *os.File
	rolloverAt time.Time
}

func openDaily(path string, keep int, now func() time.Time) (*dailyFile, error) {
	d := &dailyFile{path: path, keep: keep, now: now}
	if err := d.open(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *dailyFile) open() error {
	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	start := d.now()
	if fi, err := f.Stat(); err == nil && fi.Size() > 0 && fi.ModTime().Before(start) {
		start = fi.ModTime().In(start.Location())
	}
	d.f = f
	d.rolloverAt = nextMidnight(start)
	return nil
}

func nextMidnight(t time.Time) time.Time {
	y, m, day := t.Date()
	return time.Date(y, m, day+1, 0, 0, 0, 0, t.Location())
}

func (d *dailyFile) Write(p []byte) (int, error) {
	if !d.now().Before(d.rolloverAt) {
		if err := d.rotate(); err != nil {
			return 0, fmt.Errorf("rotate %s: %w", d.path, err)
		}
	}
	return d.f.Write(p)
}

func (d *dailyFile) rotate() error {
	if err := d.f.Close(); err != nil {
		return err
	}
	covered := d.rolloverAt.AddDate(0, 0, -1).Format(rotatedLayout)
	target := d.path + "." + covered
	_ = os.Remove(target)
	if err := os.Rename(d.path, target); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := d.open(); err != nil {
		return err
	}
	d.prune()
	return nil
}

// prune keeps the newest keep rotated files. keep <= 0 keeps everything.
func (d *dailyFile) prune() {
	if d.keep <= 0 {
		return
	}
	matches, err := filepath.Glob(d.path + ".????-??-??")
	if err != nil || len(matches) <= d.keep {
		return
	}
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-d.keep] {
		_ = os.Remove(old)
	}
}

func (d *dailyFile) Close() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}
