// Package secret поставляет расшифрованные ключи платёжного процессора.
package secret

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Provider возвращает секрет; пустая строка означает, что секрет не настроен.
type Provider interface {
	Secret(ctx context.Context) (string, error)
}

// Static хранит секрет, заданный при старте.
type Static string

// Secret реализует Provider.
func (s Static) Secret(context.Context) (string, error) {
	return strings.TrimSpace(string(s)), nil
}

// Env читает секрет из переменной окружения при каждом обращении.
type Env string

// Secret реализует Provider.
func (e Env) Secret(context.Context) (string, error) {
	return strings.TrimSpace(os.Getenv(string(e))), nil
}

// Chain опрашивает провайдеров по порядку и возвращает первый непустой секрет.
// Ошибка провайдера прерывает поиск, чтобы не подменить секрет устаревшим значением.
type Chain []Provider

// Secret реализует Provider.
func (c Chain) Secret(ctx context.Context) (string, error) {
	for i, p := range c {
		if p == nil {
			continue
		}
		v, err := p.Secret(ctx)
		if err != nil {
			return "", fmt.Errorf("secret provider %d: %w", i, err)
		}
		if v != "" {
			return v, nil
		}
	}
	return "", nil
}
