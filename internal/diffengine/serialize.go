package diffengine

import (
	"encoding/json"
	"fmt"

	camlerrors "github.com/camlsync/camlsync/internal/errors"
	"github.com/go-playground/validator/v10"
)

// FileDiff is the per-file entry in a VersionDiff (spec section 3, 6.1).
// When IsDeleted is true, ContentDiff is ignored by consumers; producers
// emit Empty there.
type FileDiff struct {
	FileName    string `json:"file_name" validate:"required"`
	IsDeleted   bool   `json:"is_deleted"`
	ContentDiff Diff   `json:"content_diff"`
}

// VersionDiff is the delta moving a tree from PrevVersion to
// CurVersion (spec section 3, 6.1).
type VersionDiff struct {
	PrevVersion int64      `json:"prev_version" validate:"min=0"`
	CurVersion  int64      `json:"cur_version" validate:"min=0,gtefield=PrevVersion"`
	EditedFiles []FileDiff `json:"edited_files"`
}

// IsIdentity reports whether vd represents a no-op version diff:
// prev == cur and no edited files.
func (vd VersionDiff) IsIdentity() bool {
	return vd.PrevVersion == vd.CurVersion && len(vd.EditedFiles) == 0
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the structural invariants from spec section 3
// (prev_version <= cur_version, both non-negative, file names present).
// It does not walk into each FileDiff's ContentDiff -- operation-level
// well-formedness is checked lazily by ApplyDiff, which is where a
// malformed diff would actually cause harm.
func (vd VersionDiff) Validate() error {
	if err := validate.Struct(vd); err != nil {
		return fmt.Errorf("%w: %v", camlerrors.ErrMalformedDiff, err)
	}
	for i, fd := range vd.EditedFiles {
		if err := validate.Struct(fd); err != nil {
			return fmt.Errorf("%w: edited_files[%d]: %v", camlerrors.ErrMalformedDiff, i, err)
		}
	}
	return nil
}

// UnmarshalJSON validates the op field while decoding so a malformed
// wire payload fails at the boundary rather than surfacing as a panic
// or silent zero value deep inside ApplyDiff.
func (o *Operation) UnmarshalJSON(data []byte) error {
	type alias Operation
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.Op != OpDelete && a.Op != OpInsert {
		return fmt.Errorf("%w: unknown op %q", camlerrors.ErrMalformedDiff, a.Op)
	}
	*o = Operation(a)
	return nil
}

// MarshalVersionDiff serializes a VersionDiff to its canonical wire
// form (spec section 6.1). A thin wrapper kept for symmetry with
// UnmarshalVersionDiff.
func MarshalVersionDiff(vd VersionDiff) ([]byte, error) {
	return json.Marshal(vd)
}

// UnmarshalVersionDiff parses the wire form of a VersionDiff, failing
// with ErrMalformedDiff on any structural or enum violation.
func UnmarshalVersionDiff(data []byte) (VersionDiff, error) {
	var vd VersionDiff
	if err := json.Unmarshal(data, &vd); err != nil {
		return VersionDiff{}, fmt.Errorf("%w: %v", camlerrors.ErrMalformedDiff, err)
	}
	if err := vd.Validate(); err != nil {
		return VersionDiff{}, err
	}
	return vd, nil
}
