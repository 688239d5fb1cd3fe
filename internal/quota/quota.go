package quota

import "errors"

var ErrQuotaExceeded = errors.New("report quota exceeded")

type QuotaChecker interface {
	CanCreateReport() bool
	IncrementUsed() error
	Remaining() int
}

type UserQuota struct {
	ReportQuota int `db:"report_quota"`
	ReportUsed  int `db:"report_used"`
}

func (u *UserQuota) CanCreateReport() bool {
	return u.ReportUsed < u.ReportQuota
}

func (u *UserQuota) IncrementUsed() error {
	if !u.CanCreateReport() {
		return ErrQuotaExceeded
	}
	u.ReportUsed++
	return nil
}

func (u *UserQuota) Remaining() int {
	if r := u.ReportQuota - u.ReportUsed; r > 0 {
		return r
	}
	return 0
}
