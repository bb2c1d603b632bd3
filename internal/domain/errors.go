package domain

import "errors"

var (
	// ErrInsufficientStock — списание уводит остаток товара в минус.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidState — недопустимый переход жизненного цикла инвойса.
	ErrInvalidState = errors.New("invalid invoice state transition")
	// ErrOverRefund — суммарное возвращаемое количество превышает проданное.
	ErrOverRefund = errors.New("refund quantity exceeds sold quantity")
	// ErrTokenReuseDetected — повторное предъявление уже ротированного/отозванного refresh-токена.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")
	// ErrTokenExpired — срок действия токена истёк.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid — токен не прошёл проверку подписи или формата.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrUnauthorized — роль не обладает требуемой capability.
	ErrUnauthorized = errors.New("operation not permitted")
	// ErrConflict — конкурентная запись; внутренние retry исчерпаны.
	ErrConflict = errors.New("concurrent write conflict")

	// ErrProductNotFound возвращается, если товар не зарегистрирован в ledger.
	ErrProductNotFound = errors.New("product not found")
	// ErrInvoiceNotFound возвращается, если инвойс не найден в хранилище.
	ErrInvoiceNotFound = errors.New("invoice not found")
	// ErrRefundNotFound возвращается, если возврат не найден в хранилище.
	ErrRefundNotFound = errors.New("refund not found")
	// ErrTokenNotFound возвращается, если JTI не найден в token store.
	ErrTokenNotFound = errors.New("refresh token not found")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials — неверная пара логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствия хотя бы одной позиции в инвойсе.
	ErrItemsRequired = errors.New("invoice must contain at least one line item")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item unit price must be non-negative")
	// Ошибка отсутствующего идентификатора товара.
	ErrProductIDRequired = errors.New("product_id is required")
	// Ошибка нулевой проводки: delta обязана быть ненулевой.
	ErrStockDeltaZero = errors.New("stock delta must be non-zero")
	// Ошибка неизвестного типа складской проводки.
	ErrStockKindInvalid = errors.New("stock entry kind must be IN, OUT or ADJUST")
	// Ошибка знака проводки: IN требует положительную delta, OUT — отрицательную.
	ErrStockDeltaSign = errors.New("stock delta sign does not match entry kind")
	// Ошибка некорректной суммы платежа (<= 0).
	ErrPaymentAmountInvalid = errors.New("payment amount must be greater than zero")
	// Ошибка платежа, превышающего остаток к оплате.
	ErrPaymentExceedsBalance = errors.New("payment exceeds outstanding balance")
	// ErrInvoicePartiallyPaid блокирует отмену инвойса с зафиксированными платежами:
	// сначала возврат, затем отмена.
	ErrInvoicePartiallyPaid = errors.New("invoice has recorded payments, refund first")
	// Ошибка пустого списка позиций возврата.
	ErrRefundItemsRequired = errors.New("refund must contain at least one item")
	// Ошибка отсутствующей причины возврата.
	ErrRefundReasonRequired = errors.New("refund reason is required")
)

// IsConflict проверяет, является ли ошибка конфликтом конкурентной записи.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsNotFound проверяет, относится ли ошибка к семейству "не найдено".
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrInvoiceNotFound) ||
		errors.Is(err, ErrRefundNotFound) ||
		errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrUserNotFound)
}
