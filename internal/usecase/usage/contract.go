package usage

import "github.com/kailas-cloud/bitlens/internal/usecase/embedding"

// BudgetReader provides read-only access to token budget state.
type BudgetReader interface {
	Snapshot() embedding.BudgetSnapshot
}
