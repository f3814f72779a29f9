package extract

import "errors"

// ErrUnknownSourceType — для типа источника нет зарегистрированного
// executor'а.
var ErrUnknownSourceType = errors.New("unknown source type")
