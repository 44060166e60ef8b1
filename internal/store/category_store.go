package store

import "context"

type CategoryStore struct {
	db DB
}

type Category struct {
	ID   string `db:"id"`
	Name string `db:"name"`
}

func NewCategoryStore(db DB) *CategoryStore {
	return &CategoryStore{db: db}
}

func (s *CategoryStore) List(ctx context.Context) ([]Category, error) {
	var rows []Category
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name FROM categories ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *CategoryStore) GetByName(ctx context.Context, name string) (Category, error) {
	var row Category
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name FROM categories WHERE name = $1
	`, name)
	if err != nil {
		return Category{}, err
	}
	return row, nil
}
