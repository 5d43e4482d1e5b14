package ds

import "gorm.io/gorm"

// Models - все таблицы портала в порядке миграции.
func Models() []interface{} {
	return []interface{}{
		&User{},
		&ServiceCategory{},
		&Service{},
		&ServiceAddOn{},
		&Project{},
		&ProjectService{},
		&ProjectAddOn{},
		&Payment{},
		&Subscription{},
		&Invoice{},
		&Ticket{},
		&TicketUpdate{},
		&Attachment{},
		&WebhookEvent{},
	}
}

// AutoMigrate выполняет миграцию всех моделей.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
