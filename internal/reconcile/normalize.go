// Package reconcile сводит данные patch/backup/security-источников в единую
// запись о здоровье клиента. Клиенты в разных системах называются по-разному,
// поэтому сопоставление идёт по каноническому ключу из Normalize.
package reconcile

import (
	"regexp"
	"strings"
)

// UnknownKey: корзина для пустых имён. Не совпадает ни с одним реальным клиентом.
const UnknownKey = "unknown"

var (
	// Апострофы вырезаются целиком: "O'Brien" и "OBrien" — один клиент.
	punctReplacer = strings.NewReplacer(
		"&", "and",
		"'", "",
		"’", "",
		"‘", "",
	)
	// "p.t.y." и "l.t.d." склеиваются до снятия суффиксов
	dottedAbbrevRe = regexp.MustCompile(`\b(?:[a-z]\.){2,}`)
	legalWordsRe   = regexp.MustCompile(`\b(pty|ltd|limited|group)\b`)
	nonAlnumRe     = regexp.MustCompile(`[^a-z0-9]+`)

	legalWords = map[string]struct{}{"pty": {}, "ltd": {}, "limited": {}, "group": {}}
)

// Normalize превращает свободное имя клиента/сайта в канонический ключ [a-z0-9]+.
// Пустой результат уходит в UnknownKey. Normalize идемпотентна.
func Normalize(raw string) string {
	if key := canonical(raw); key != "" {
		return key
	}
	return UnknownKey
}

// CanonicalKey возвращает ключ и false, если имя пустое или ничего не осталось
// после очистки. Такие строки агрегаторы пропускают, а не складывают в UnknownKey.
func CanonicalKey(raw string) (string, bool) {
	key := canonical(raw)
	return key, key != ""
}

func canonical(raw string) string {
	val := strings.ToLower(raw)
	val = punctReplacer.Replace(val)
	val = dottedAbbrevRe.ReplaceAllStringFunc(val, func(m string) string {
		return strings.ReplaceAll(m, ".", "")
	})
	val = legalWordsRe.ReplaceAllString(val, "")
	val = nonAlnumRe.ReplaceAllString(val, "")
	val = strings.TrimSpace(val)

	// "P T Y" склеивается в "pty" только на последнем шаге.
	if _, ok := legalWords[val]; ok {
		return ""
	}
	return val
}
