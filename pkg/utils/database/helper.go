// Copyright 2024 The kubegems.io Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package database

import (
	"database/sql"
	"fmt"

	"gorm.io/gorm"
)

func CreateDatabaseIfNotExists(dsn, dbname string) error {
	tmpdb, err := sql.Open("mysql", dsn)
	if err != nil {
		return err
	}
	defer tmpdb.Close()
	sqlStr := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` DEFAULT CHARACTER SET utf8mb4;", dbname)
	_, err = tmpdb.Exec(sqlStr)
	return err
}

// Migrate creates the database when missing and migrates the models.
func Migrate(opts *Options, models ...interface{}) error {
	if err := CreateDatabaseIfNotExists(opts.ToDsnWithOutDB()); err != nil {
		return err
	}
	db, err := NewDatabase(opts)
	if err != nil {
		return err
	}
	return MigrateModels(db.DB(), models...)
}

func MigrateModels(db *gorm.DB, models ...interface{}) error {
	return db.AutoMigrate(models...)
}
