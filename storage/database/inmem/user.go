package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/eduanalytics/core/user"
)

type userRepository struct {
	db *DB
}

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) find(match func(usr user.User) bool) (user.User, error) {
	var found user.User
	err := repo.db.view(nil, func(t *tables) error {
		for _, usr := range t.users {
			if match(usr) {
				found = usr
				return nil
			}
		}
		return user.ErrNotFound
	})
	return found, err
}

func checkEmailUniqueness(t *tables, usr user.User) error {
	for _, u := range t.users {
		if u.ID != usr.ID && u.Email == usr.Email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	err := repo.db.update(nil, func(t *tables) error {
		if err := checkEmailUniqueness(t, usr); err != nil {
			return err
		}
		usr.ID = t.nextID("users")
		t.users[usr.ID] = usr
		return nil
	})
	return usr, err
}

func (repo *userRepository) GetUserByID(ctx context.Context, id int) (user.User, error) {
	return repo.find(func(usr user.User) bool { return usr.ID == id })
}

func (repo *userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return repo.find(func(usr user.User) bool { return usr.Email == email })
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	err := repo.db.update(nil, func(t *tables) error {
		if _, ok := t.users[usr.ID]; !ok {
			return user.ErrNotFound
		}
		if err := checkEmailUniqueness(t, usr); err != nil {
			return err
		}
		t.users[usr.ID] = usr
		return nil
	})
	return usr, err
}

func (repo *userRepository) QueryUsers(ctx context.Context) ([]user.User, error) {
	users := make([]user.User, 0)
	err := repo.db.view(nil, func(t *tables) error {
		for _, usr := range t.users {
			users = append(users, usr)
		}
		return nil
	})
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, err
}
