package ledger

import "github.com/taskhive/TaskHive/app/models"

// Owner identifies the holder of a token balance. Users and groups each hold
// exactly one balance row.
type Owner struct {
	Type string
	ID   uint
}

func UserOwner(id uint) Owner {
	return Owner{Type: models.TokenOwnerUser, ID: id}
}

func GroupOwner(id uint) Owner {
	return Owner{Type: models.TokenOwnerGroup, ID: id}
}

// Pool names the token sub-balance a credit targets.
type Pool string

const (
	PoolFree Pool = models.TokenPoolFree
	PoolPaid Pool = models.TokenPoolPaid
)

func (p Pool) valid() bool {
	return p == PoolFree || p == PoolPaid
}
