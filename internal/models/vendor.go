package models

import "time"

type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationApproved ApplicationStatus = "approved"
	ApplicationRejected ApplicationStatus = "rejected"
)

func ValidApplicationStatus(s ApplicationStatus) bool {
	switch s {
	case ApplicationPending, ApplicationApproved, ApplicationRejected:
		return true
	default:
		return false
	}
}

type Vendor struct {
	Id                string            `json:"id"`
	Name              string            `json:"name"`
	Email             string            `json:"email"`
	ApplicationStatus ApplicationStatus `json:"applicationStatus"`
	ContractAccepted  bool              `json:"contractAccepted"`
	TrainingCompleted bool              `json:"trainingCompleted"`
	PayoutAccountId   string            `json:"payoutAccountId,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"-"`
}

// VendorCompliance is a projection derived from vendor state on every read,
// never stored on its own.
type VendorCompliance struct {
	AdminApproved     bool `json:"adminApproved"`
	ContractAccepted  bool `json:"contractAccepted"`
	TrainingCompleted bool `json:"trainingCompleted"`
	CanPublish        bool `json:"canPublish"`
}

func (v Vendor) Compliance() VendorCompliance {
	approved := v.ApplicationStatus == ApplicationApproved
	return VendorCompliance{
		AdminApproved:     approved,
		ContractAccepted:  v.ContractAccepted,
		TrainingCompleted: v.TrainingCompleted,
		CanPublish:        approved && v.ContractAccepted && v.TrainingCompleted,
	}
}

// CanOffer gates vendor-originated mutations. Same predicate as CanPublish.
func (v Vendor) CanOffer() bool {
	return v.Compliance().CanPublish
}

// VendorView is the read shape returned over HTTP: the vendor plus its
// recomputed compliance projection.
type VendorView struct {
	Vendor
	Compliance VendorCompliance `json:"compliance"`
}

func NewVendorView(v Vendor) VendorView {
	return VendorView{Vendor: v, Compliance: v.Compliance()}
}

// VendorPatch carries a partial admin update, nil fields stay unchanged.
type VendorPatch struct {
	ApplicationStatus *ApplicationStatus
	ContractAccepted  *bool
	TrainingCompleted *bool
	PayoutAccountId   *string
}

// Actor identifies the caller of a lifecycle mutation. Admin actors may act on
// any request, others only on requests owned by their email.
type Actor struct {
	Email string
	Admin bool
}
