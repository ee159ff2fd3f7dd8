package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hitoshi/catalog/internal/model"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCategoryID = "0b6c2f3e-8a52-4f0e-9d7c-1a2b3c4d5e6f"

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestPostgresCategoryRepo_FindByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresCategoryRepo(db)
	updated := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery("SELECT id, name, last_updated FROM categories WHERE id").
		WithArgs(testCategoryID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "last_updated"}).
			AddRow(testCategoryID, "Photo", updated))

	c, err := repo.FindByID(context.Background(), testCategoryID)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "Photo", c.Name)
	assert.True(t, c.LastUpdated.Equal(updated))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCategoryRepo_FindByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresCategoryRepo(db)

	mock.ExpectQuery("FROM categories WHERE id").
		WithArgs(testCategoryID).
		WillReturnError(sql.ErrNoRows)

	c, err := repo.FindByID(context.Background(), testCategoryID)
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 不正な形式のIDはDBに問い合わせずnilを返す
func TestPostgresCategoryRepo_FindByID_MalformedID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresCategoryRepo(db)

	c, err := repo.FindByID(context.Background(), "not-a-uuid")
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCategoryRepo_List(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresCategoryRepo(db)
	now := time.Now()

	mock.ExpectQuery("ORDER BY name ASC").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "last_updated"}).
			AddRow("id-1", "Clothes", now).
			AddRow("id-2", "Photo", now))

	categories, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, categories, 2)
	assert.Equal(t, "Clothes", categories[0].Name)
	assert.Equal(t, "Photo", categories[1].Name)
}

func TestPostgresCategoryRepo_ExistsByName(t *testing.T) {
	t.Run("without exclusion", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPostgresCategoryRepo(db)

		mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM categories WHERE name = \$1\)`).
			WithArgs("Photo").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		exists, err := repo.ExistsByName(context.Background(), "Photo", "")
		require.NoError(t, err)
		assert.True(t, exists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("excluding the category being edited", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPostgresCategoryRepo(db)

		mock.ExpectQuery(`name = \$1 AND id <> \$2`).
			WithArgs("Photo", testCategoryID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		exists, err := repo.ExistsByName(context.Background(), "Photo", testCategoryID)
		require.NoError(t, err)
		assert.False(t, exists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresCategoryRepo_Create_AssignsIDAndTimestamp(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresCategoryRepo(db)

	mock.ExpectExec("INSERT INTO categories").
		WithArgs(sqlmock.AnyArg(), "Photo", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	c := &model.Category{Name: "Photo"}
	require.NoError(t, repo.Create(context.Background(), c))
	assert.True(t, validUUID(c.ID))
	assert.False(t, c.LastUpdated.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCategoryRepo_Create_DuplicateName(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresCategoryRepo(db)

	mock.ExpectExec("INSERT INTO categories").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "categories_name_key"})

	err := repo.Create(context.Background(), &model.Category{Name: "Photo"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateName))
}

func TestPostgresCategoryRepo_Update_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresCategoryRepo(db)

	mock.ExpectExec("UPDATE categories SET name").
		WithArgs(testCategoryID, "Video", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &model.Category{ID: testCategoryID, Name: "Video", LastUpdated: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "category not found")
}

func TestPostgresCategoryRepo_Delete_RestrictedByProducts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresCategoryRepo(db)

	mock.ExpectExec("DELETE FROM categories").
		WithArgs(testCategoryID).
		WillReturnError(&pq.Error{Code: "23503", Constraint: "products_category_id_fkey"})

	err := repo.Delete(context.Background(), testCategoryID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrForeignKey))
}
