package utils

import (
	"crypto/rand"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/oklog/ulid"

	"github.com/siphon-data/siphon/logger"
)

var (
	ulidMutex = sync.Mutex{}
	entropy   = ulid.Monotonic(rand.Reader, 0)
	validate  = validator.New()
)

func ExistInArray[T ~string | int | int8 | int16 | int32 | int64 | float32 | float64](set []T, value T) bool {
	_, found := ArrayContains(set, func(elem T) bool {
		return elem == value
	})

	return found
}

func ArrayContains[T any](set []T, match func(elem T) bool) (int, bool) {
	for idx, elem := range set {
		if match(elem) {
			return idx, true
		}
	}

	return -1, false
}

// returns cond ? a ; b
func Ternary(cond bool, a, b any) any {
	if cond {
		return a
	}
	return b
}

// Unmarshal serializes and deserializes any from into the object
// return error if occurred
func Unmarshal(from, object any) error {
	b, err := json.Marshal(from)
	if err != nil {
		return fmt.Errorf("error marshaling object: %v", err)
	}
	err = json.Unmarshal(b, object)
	if err != nil {
		return fmt.Errorf("error unmarshalling from object: %v", err)
	}

	return nil
}

// Validate runs struct validation tags against the value
func Validate(object any) error {
	return validate.Struct(object)
}

func CheckIfFilesExists(files ...string) error {
	for _, file := range files {
		// Check if the file or directory exists
		_, err := os.Stat(file)
		if os.IsNotExist(err) {
			return fmt.Errorf("%s does not exist: %s", file, err)
		}

		_, err = os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %s", file, err)
		}
	}

	return nil
}

func UnmarshalFile(file string, dest any) error {
	if err := CheckIfFilesExists(file); err != nil {
		return err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("file not found : %s", err)
	}

	err = json.Unmarshal(data, dest)
	if err != nil {
		return fmt.Errorf("failed to unmarshal file[%s]: %s", file, err)
	}

	return nil
}

func ULID() string {
	ulidMutex.Lock()
	defer ulidMutex.Unlock()
	newUlid, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		logger.Fatalf("failed to generate ulid: %s", err)
	}
	return newUlid.String()
}

// CompareInterfaceValue returns 0 for equal, -1 if a < b else 1 if a > b
func CompareInterfaceValue(a, b interface{}) int {
	switch a.(type) {
	case int, int32, int64, uint32, uint64, float32, float64:
		af := toFloat(a)
		bf := toFloat(b)
		if af < bf {
			return -1
		} else if af > bf {
			return 1
		}
	case string:
		if a != nil && b != nil {
			return strings.Compare(a.(string), b.(string))
		}
		return Ternary(a == nil, -1, 1).(int)
	}
	return 0
}

func toFloat(v interface{}) float64 {
	if v == nil {
		return 0
	}
	return reflect.ValueOf(v).Convert(reflect.TypeOf(float64(0))).Float()
}

func RetryOnBackoff(attempts int, sleep time.Duration, f func() error) (err error) {
	for cur := 0; cur < attempts; cur++ {
		if err = f(); err == nil {
			return nil
		}
		if cur != 0 {
			logger.Infof("retry attempt[%d], retrying after %.2f seconds due to err: %s", cur, sleep.Seconds(), err)
			time.Sleep(sleep)
			sleep = sleep * 2
		}
	}

	return err
}
