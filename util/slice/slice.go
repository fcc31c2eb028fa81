package slice

// Filter returns a new slice holding only elements matching cond.
func Filter[T any](elements []T, cond func(T) bool) []T {
	res := make([]T, 0, len(elements))
	for _, el := range elements {
		if cond(el) {
			res = append(res, el)
		}
	}
	return res
}
