package device

import "github.com/tapevault/bstored/internal/sderrors"

// ErrUnsupportedBackend is returned by a backend's Open when the backend
// is declared but not implemented (see KindNDMP).
var ErrUnsupportedBackend = sderrors.New(sderrors.KindConfiguration, "backend not implemented")

// ErrUnsupportedOp is returned by an operation a backend's capability set
// says it does not support.
var ErrUnsupportedOp = sderrors.New(sderrors.KindConfiguration, "operation not supported by this backend")

// ErrEndOfMedium signals ENOSPC / short-write end-of-medium conditions
// (spec.md §4.2, §7).
var ErrEndOfMedium = sderrors.New(sderrors.KindEndOfMedium, "end of medium")

// ErrTransientBusy signals an EBUSY-classified write/read failure, the
// trigger for the 3x/5s retry policy (spec.md §5, §7).
var ErrTransientBusy = sderrors.New(sderrors.KindTransientBusy, "device busy")

// ErrEndOfFile signals a tape-mark boundary was crossed during a read.
var ErrEndOfFile = sderrors.New(sderrors.KindEndOfMedium, "end of file mark")

// ErrPositionDiscrepancy signals the OS-reported position disagrees with
// the catalog (spec.md §4.4 "insanity check").
var ErrPositionDiscrepancy = sderrors.New(sderrors.KindPositionDiscrepancy, "device position disagrees with catalog")
