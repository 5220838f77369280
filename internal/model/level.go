package model

import (
	"fmt"
	"strconv"
	"strings"
)

// LevelRef ссылается на уровень членства по идентификатору или по слагу.
// Набор реализаций закрыт: LevelID и LevelSlug.
type LevelRef interface {
	fmt.Stringer
	// Matches сообщает, что уровень с указанными id и slug подпадает под ссылку.
	Matches(id int, slug string) bool
	isLevelRef()
}

// LevelID ссылается на уровень по числовому идентификатору.
type LevelID int

// LevelSlug ссылается на уровень по слагу.
type LevelSlug string

func (l LevelID) String() string { return strconv.Itoa(int(l)) }

// Matches реализует LevelRef.
func (l LevelID) Matches(id int, _ string) bool { return int(l) == id }

func (LevelID) isLevelRef() {}

func (l LevelSlug) String() string { return string(l) }

// Matches реализует LevelRef.
func (l LevelSlug) Matches(_ int, slug string) bool {
	return slug != "" && strings.EqualFold(string(l), slug)
}

func (LevelSlug) isLevelRef() {}

// ParseLevelRef разбирает "12" как LevelID, остальное как LevelSlug.
func ParseLevelRef(s string) (LevelRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty level reference")
	}
	if id, err := strconv.Atoi(s); err == nil {
		if id <= 0 {
			return nil, fmt.Errorf("invalid level id: %d", id)
		}
		return LevelID(id), nil
	}
	return LevelSlug(strings.ToLower(s)), nil
}

// ParseLevelRefs разбирает список уровней через запятую.
func ParseLevelRefs(list string) ([]LevelRef, error) {
	var refs []LevelRef
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		ref, err := ParseLevelRef(part)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
