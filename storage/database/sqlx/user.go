package sqlxrepos

import (
	"context"

	"github.com/trezcool/eduanalytics/core"
	"github.com/trezcool/eduanalytics/core/user"
)

const userColumns = "id, name, email, role, is_active, password_hash, created_at, updated_at, last_login"

type userRepository struct {
	db core.DBExecutor
}

func NewUserRepository(db core.DBExecutor) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	q := `INSERT INTO users (name, email, role, is_active, password_hash, created_at, updated_at, last_login)
		VALUES (:name, :email, :role, :is_active, :password_hash, :created_at, :updated_at, :last_login)
		RETURNING id`
	q, args, err := repo.db.BindNamed(q, usr)
	if err != nil {
		return user.User{}, err
	}
	err = repo.db.QueryRowxContext(ctx, q, args...).Scan(&usr.ID)
	return usr, dbError(err, nil, user.ErrEmailExists, nil)
}

func (repo *userRepository) get(ctx context.Context, cond string, arg interface{}) (user.User, error) {
	var usr user.User
	err := repo.db.GetContext(ctx, &usr, "SELECT "+userColumns+" FROM users WHERE "+cond, arg)
	return usr, dbError(err, user.ErrNotFound, nil, nil)
}

func (repo *userRepository) GetUserByID(ctx context.Context, id int) (user.User, error) {
	return repo.get(ctx, "id = $1", id)
}

func (repo *userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return repo.get(ctx, "email = $1", email)
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	q := `UPDATE users SET name = :name, email = :email, role = :role, is_active = :is_active,
		password_hash = :password_hash, updated_at = :updated_at, last_login = :last_login
		WHERE id = :id`
	res, err := repo.db.NamedExecContext(ctx, q, usr)
	if err != nil {
		return user.User{}, dbError(err, nil, user.ErrEmailExists, nil)
	}
	return usr, checkAffected(res, user.ErrNotFound)
}

func (repo *userRepository) QueryUsers(ctx context.Context) ([]user.User, error) {
	users := make([]user.User, 0)
	err := repo.db.SelectContext(ctx, &users, "SELECT "+userColumns+" FROM users ORDER BY id")
	return users, err
}
