package repository

import "context"

// Transactor выполняет fn в одной транзакции. Вложенные вызовы используют внешнюю транзакцию.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
