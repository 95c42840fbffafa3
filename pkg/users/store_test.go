package users

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/examcore/pkg/apperr"
	"github.com/platinummonkey/examcore/pkg/pagination"
)

const (
	userID = "6a1f0c1e-2b7d-4c55-9e0a-0c9d8e7f6a01"
	roleID = "6a1f0c1e-2b7d-4c55-9e0a-0c9d8e7f6a02"
)

var userColumns = []string{
	"id", "fullname", "email", "phone_number", "avatar", "student_type",
	"referral_code", "referred_by", "birth_date", "gender", "religion", "identity_number",
	"email_verified", "is_active", "is_profile_completed", "role_id", "name",
	"created_at", "updated_at",
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func userRow(email string, active bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(userColumns).AddRow(
		userID, "Jane Student", email, "08123", nil, "regular",
		nil, nil, nil, nil, nil, nil,
		true, active, false, roleID, "Student",
		now, now,
	)
}

func TestStore_Get(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE u.id = $1 AND u.is_deleted = FALSE")).
		WithArgs(userID).
		WillReturnRows(userRow("jane@example.com", true))

	user, err := store.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", user.Email)
	require.NotNil(t, user.Role)
	assert.Equal(t, "Student", user.Role.Name)
	require.NotNil(t, user.PhoneNumber)
	assert.Equal(t, "08123", *user.PhoneNumber)
	assert.Nil(t, user.BirthDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewStore(db)

	mock.ExpectQuery("FROM app_users u").WithArgs(userID).WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), userID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, "User not found", apperr.Message(err))
}

func TestStore_List(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM app_users u WHERE u.is_deleted = FALSE AND (LOWER(u.fullname) LIKE $1 ESCAPE '\\' OR LOWER(u.email) LIKE $1 ESCAPE '\\') AND u.is_active = $2")).
		WithArgs("%jane%", true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY u.fullname ASC LIMIT $3 OFFSET $4")).
		WithArgs("%jane%", true, 10, 0).
		WillReturnRows(userRow("jane@example.com", true))

	params := pagination.Params{Page: 1, PerPage: 10, Search: "Jane", SortBy: "fullname", Order: "asc", FilterBy: "is_active", Filter: "true"}
	users, total, err := store.List(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, users, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListRejectsUnknownFilter(t *testing.T) {
	db, _ := newMockDB(t)
	store := NewStore(db)

	_, _, err := store.List(context.Background(), pagination.Params{FilterBy: "password", Filter: "x"})
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	_, _, err = store.List(context.Background(), pagination.Params{FilterBy: "role_id", Filter: "nope"})
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
}

func TestStore_Create(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewStore(db)

	mock.ExpectExec("INSERT INTO app_users").
		WithArgs(sqlmock.AnyArg(), roleID, "Jane", "jane@example.com", "hash", nil, nil, nil, nil, true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	id, err := store.Create(context.Background(), CreateUserRequest{
		RoleID: roleID, Fullname: "Jane", Email: " Jane@Example.com", Password: "irrelevant",
	}, "hash")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateErrors(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewStore(db)
	req := CreateUserRequest{RoleID: roleID, Fullname: "Jane", Email: "jane@example.com"}

	mock.ExpectExec("INSERT INTO app_users").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "app_users_email_key"})
	_, err := store.Create(context.Background(), req, "hash")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	mock.ExpectExec("INSERT INTO app_users").
		WillReturnError(&pq.Error{Code: "23503", Constraint: "app_users_role_id_fkey"})
	_, err = store.Create(context.Background(), req, "hash")
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	mock.ExpectExec("INSERT INTO app_users").WillReturnError(errors.New("connection reset"))
	_, err = store.Create(context.Background(), req, "hash")
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestStore_Update(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewStore(db)
	birth := time.Date(2001, 2, 3, 0, 0, 0, 0, time.UTC)
	name := "Jane D"
	role := roleID

	mock.ExpectExec(regexp.QuoteMeta("UPDATE app_users SET role_id = $1, fullname = $2, birth_date = $3, updated_at = $4 WHERE id = $5 AND is_deleted = FALSE")).
		WithArgs(roleID, name, birth, sqlmock.AnyArg(), userID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Update(context.Background(), userID, Changes{RoleID: &role, Fullname: &name, BirthDate: &birth})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateMissing(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewStore(db)
	name := "x"

	mock.ExpectExec("UPDATE app_users SET").WillReturnResult(sqlmock.NewResult(0, 0))
	err := store.Update(context.Background(), userID, Changes{Fullname: &name})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestStore_SoftDelete(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewStore(db)

	mock.ExpectExec(regexp.QuoteMeta("SET is_deleted = TRUE, is_active = FALSE")).
		WithArgs(sqlmock.AnyArg(), userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.SoftDelete(context.Background(), userID))

	mock.ExpectExec(regexp.QuoteMeta("SET is_deleted = TRUE")).
		WithArgs(sqlmock.AnyArg(), userID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := store.SoftDelete(context.Background(), userID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err), "already deleted")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUserRequest_Changes(t *testing.T) {
	bad := "03/02/2001"
	_, err := UpdateUserRequest{BirthDate: &bad}.changes()
	assert.Error(t, err)

	good := "2001-02-03"
	c, err := UpdateUserRequest{BirthDate: &good}.changes()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2001, 2, 3, 0, 0, 0, 0, time.UTC), *c.BirthDate)
}

func TestUser_ProfileComplete(t *testing.T) {
	phone, gender := "0812", "female"
	birth := time.Now()

	assert.False(t, (&User{}).profileComplete())
	assert.False(t, (&User{PhoneNumber: &phone, Gender: &gender}).profileComplete())
	assert.True(t, (&User{PhoneNumber: &phone, Gender: &gender, BirthDate: &birth}).profileComplete())
}
