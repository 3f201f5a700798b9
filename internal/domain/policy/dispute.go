package policy

import (
	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
)

// DisputeFreeze блокирует любые переходы workflow, пока спор не разрешён.
func DisputeFreeze(flag *entity.DisputeFlag) error {
	if flag != nil && !flag.Resolved {
		return apperror.ErrDisputeOpen
	}
	return nil
}

// LedgerDisputeGuard денежная операция при открытом споре допустима только
// с явным флагом разрешения спора.
func LedgerDisputeGuard(flag *entity.DisputeFlag, resolveDispute bool) error {
	if flag == nil || flag.Resolved {
		return nil
	}
	if !resolveDispute {
		return apperror.New(apperror.ErrCodeForbidden, "по заявке открыт спор, требуется явное разрешение спора")
	}
	return nil
}
