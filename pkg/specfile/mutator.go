// Package specfile applies idempotent, reversible edits to the kernel
// build spec: a patch declaration, its activation entry and the build
// identifier directive.
package specfile

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/logger"
)

// ErrAnchorNotFound indicates the spec lacks the pre-existing section an
// edit anchors on. Failing fast beats silently misplacing a line the
// build tool would then misinterpret.
var ErrAnchorNotFound = errors.New("anchor line not found in spec")

// BackupSuffix is appended to the pristine copy written before the
// first mutation.
const BackupSuffix = ".orig"

var (
	declarationPattern = regexp.MustCompile(`^Patch(\d+):\s*(\S+)`)
	activationPattern  = regexp.MustCompile(`^%patch(\d+)\b`)
	buildIDPattern     = regexp.MustCompile(`^%define\s+buildid\s+(\S+)`)
	buildIDComment     = regexp.MustCompile(`^#\s*%define\s+buildid\b`)
)

// Mutator performs the three spec edits
type Mutator struct {
	logger logger.Logger
}

// NewMutator creates a spec mutator
func NewMutator(log logger.Logger) *Mutator {
	return &Mutator{logger: log}
}

// ApplyFile loads the spec, writes the pristine backup if this is the
// first mutation, applies the edits and saves only when something
// changed. A second application with identical inputs is a no-op.
func (m *Mutator) ApplyFile(path, patchName, buildID string) error {
	doc, err := LoadDocument(path)
	if err != nil {
		return err
	}

	if err := m.ensureBackup(path, doc); err != nil {
		return err
	}

	changed, err := m.Apply(doc, patchName, buildID)
	if err != nil {
		return err
	}
	if !changed {
		m.logger.Debug("Spec already mutated, nothing to do")
		return nil
	}
	return doc.Save()
}

// Apply performs the three edits on the document model, returning
// whether anything changed.
func (m *Mutator) Apply(doc *Document, patchName, buildID string) (bool, error) {
	changed := false

	declChanged, patchNumber, err := m.ensureDeclaration(doc, patchName)
	if err != nil {
		return false, err
	}
	changed = changed || declChanged

	actChanged, err := m.ensureActivation(doc, patchNumber)
	if err != nil {
		return false, err
	}
	changed = changed || actChanged

	changed = m.ensureBuildID(doc, buildID) || changed
	return changed, nil
}

// ensureBackup writes the pristine copy once. An existing backup is
// never overwritten, so the document stays reversible after repeated
// mutations.
func (m *Mutator) ensureBackup(path string, doc *Document) error {
	backup := path + BackupSuffix
	if _, err := os.Stat(backup); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check spec backup: %w", err)
	}

	if err := os.WriteFile(backup, []byte(doc.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write spec backup: %w", err)
	}
	m.logger.Debug("Wrote pristine spec backup", logger.WithField("path", backup))
	return nil
}

// ensureDeclaration inserts "Patch<N+1>: <patchName>" after the
// highest-numbered existing declaration. Returns the patch number used.
func (m *Mutator) ensureDeclaration(doc *Document, patchName string) (bool, int, error) {
	highest := -1
	anchorIdx := -1
	for i, line := range doc.lines {
		match := declarationPattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		n, _ := strconv.Atoi(match[1])
		if match[2] == patchName {
			// Already declared; reuse its number.
			return false, n, nil
		}
		if n > highest {
			highest = n
			anchorIdx = i
		}
	}

	if anchorIdx < 0 {
		return false, 0, fmt.Errorf("%w: no patch declarations", ErrAnchorNotFound)
	}

	number := highest + 1
	doc.insertAfter(anchorIdx, fmt.Sprintf("Patch%d:        %s", number, patchName))
	m.logger.Info("Declared patch in spec",
		logger.WithField("patch", patchName),
		logger.WithField("number", number))
	return true, number, nil
}

// ensureActivation inserts "%patch<N> -p1" after the last existing
// activation entry.
func (m *Mutator) ensureActivation(doc *Document, patchNumber int) (bool, error) {
	lastIdx := -1
	for i, line := range doc.lines {
		match := activationPattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		if n, _ := strconv.Atoi(match[1]); n == patchNumber {
			return false, nil
		}
		lastIdx = i
	}

	if lastIdx < 0 {
		return false, fmt.Errorf("%w: no patch activation entries", ErrAnchorNotFound)
	}

	doc.insertAfter(lastIdx, fmt.Sprintf("%%patch%d -p1", patchNumber))
	return true, nil
}

// ensureBuildID activates the build identifier directive: replace the
// commented default, update an active one, or prepend if absent.
func (m *Mutator) ensureBuildID(doc *Document, buildID string) bool {
	directive := fmt.Sprintf("%%define buildid %s", buildID)

	for i, line := range doc.lines {
		if match := buildIDPattern.FindStringSubmatch(line); match != nil {
			if match[1] == buildID {
				return false
			}
			doc.lines[i] = directive
			return true
		}
	}

	for i, line := range doc.lines {
		if buildIDComment.MatchString(strings.TrimSpace(line)) {
			doc.lines[i] = directive
			m.logger.Info("Activated build identifier", logger.WithField("buildid", buildID))
			return true
		}
	}

	doc.prepend(directive)
	m.logger.Info("Prepended build identifier", logger.WithField("buildid", buildID))
	return true
}
