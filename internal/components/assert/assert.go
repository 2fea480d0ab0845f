package assert

func NotNil(value any) {
	if value == nil {
		panic("expected value to be not nil")
	}
}

func True(cond bool, message string) {
	if !cond {
		panic(message)
	}
}
