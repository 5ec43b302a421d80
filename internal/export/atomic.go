package export

import (
	"fmt"
	"log"
	"path"

	"github.com/go-git/go-billy/v6"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// WriteFileAtomic writes data to a uuid-named file in a staging directory of
// fs and renames it to name, so readers never observe a partial file
func WriteFileAtomic(fs billy.Filesystem, name string, data []byte) error {
	b := newBatch(fs)
	if err := b.Add(name, data); err != nil {
		b.Discard()
		return err
	}
	return b.Commit()
}

type stagedFile struct {
	tmp    string
	dst    string
	backup string
}

// batch stages several files in a private directory and moves them into
// place together. When any move fails the files already moved are taken
// back and the previous contents restored.
type batch struct {
	fs      billy.Filesystem
	staging string
	created bool
	files   []*stagedFile
}

func newBatch(fs billy.Filesystem) *batch {
	return &batch{fs: fs, staging: ".staging-" + uuid.NewString()}
}

func (b *batch) Add(dst string, data []byte) error {
	tmp := b.fs.Join(b.staging, uuid.NewString())
	if !b.created {
		if err := b.fs.MkdirAll(b.staging, 0o755); err != nil {
			return fmt.Errorf("while creating staging directory: %w", err)
		}
		b.created = true
	}
	f, err := b.fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("while creating %s: %w", dst, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("while writing %s: %w", dst, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("while closing %s: %w", dst, err)
	}
	b.files = append(b.files, &stagedFile{tmp: tmp, dst: dst})
	return nil
}

func (b *batch) Commit() error {
	var committed []*stagedFile
	for _, sf := range b.files {
		if err := b.move(sf); err != nil {
			rollbackErr := b.rollback(committed)
			b.Discard()
			if rollbackErr != nil {
				return multierror.Append(fmt.Errorf("while moving %s into place: %w", sf.dst, err), rollbackErr)
			}
			return fmt.Errorf("while moving %s into place: %w", sf.dst, err)
		}
		committed = append(committed, sf)
	}
	for _, sf := range committed {
		if sf.backup != "" {
			b.fs.Remove(sf.backup)
		}
	}
	b.Discard()
	return nil
}

func (b *batch) move(sf *stagedFile) error {
	if dir := path.Dir(sf.dst); dir != "." && dir != "/" {
		if err := b.fs.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if _, err := b.fs.Stat(sf.dst); err == nil {
		backup := b.fs.Join(b.staging, "backup-"+uuid.NewString())
		if err := b.fs.Rename(sf.dst, backup); err != nil {
			return err
		}
		sf.backup = backup
	}
	if err := b.fs.Rename(sf.tmp, sf.dst); err != nil {
		if sf.backup != "" {
			b.fs.Rename(sf.backup, sf.dst)
			sf.backup = ""
		}
		return err
	}
	return nil
}

func (b *batch) rollback(committed []*stagedFile) error {
	var result error
	for i := len(committed) - 1; i >= 0; i-- {
		sf := committed[i]
		if err := b.fs.Remove(sf.dst); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if sf.backup != "" {
			if err := b.fs.Rename(sf.backup, sf.dst); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result
}

// Discard removes whatever is left in the staging directory
func (b *batch) Discard() {
	if !b.created {
		return
	}
	for _, sf := range b.files {
		b.fs.Remove(sf.tmp)
	}
	b.created = false
	if err := b.fs.Remove(b.staging); err != nil {
		log.Printf("export: leaving staging directory %s: %s", b.staging, err)
	}
}
