package s3

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fs = afero.Afero{Fs: afero.NewMemMapFs()}

func tempFile(t *testing.T) afero.File {
	file, err := fs.TempFile("", "")
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("Created temporary file: %s", file.Name())
	return file
}

type mockS3Client struct {
	s3iface.S3API
	f afero.File

	put *s3.PutObjectInput
	buf []byte
}

func (c *mockS3Client) GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error) {
	return &s3.GetObjectOutput{
		Body:         c.f,
		ContentRange: aws.String("1"),
	}, nil
}

func (c *mockS3Client) PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error) {
	c.put = input
	blob, err := ioutil.ReadAll(input.Body)
	c.buf = blob
	return &s3.PutObjectOutput{}, err
}

func TestObjectStorageImpl_Download(t *testing.T) {
	const want = "PK archive"

	// Input file S3 mock is to read from
	fi := tempFile(t)
	defer fi.Close()
	fmt.Fprint(fi, want)
	fi.Seek(0, 0)

	s3c := &mockS3Client{f: fi}
	client := NewWithClient(s3c)

	_, err := client.Download(context.TODO(), aws.NewWriteAtBuffer([]byte{}), "[invalid-url]:12345")
	assert.Error(t, err)

	buf := aws.NewWriteAtBuffer([]byte{})
	_, err = client.Download(context.TODO(), buf, "s3://foo/bar.kmz")
	require.NoError(t, err)
	assert.Equal(t, want, string(buf.Bytes()))
}

func TestObjectStorageImpl_Upload(t *testing.T) {
	s3c := &mockS3Client{}
	client := NewWithClient(s3c)

	err := client.Upload(context.TODO(), bytes.NewReader([]byte("png")), "s3://maps/latest.png", "image/png")

	require.NoError(t, err)
	require.NotNil(t, s3c.put)
	assert.Equal(t, "maps", aws.StringValue(s3c.put.Bucket))
	assert.Equal(t, "latest.png", aws.StringValue(s3c.put.Key))
	assert.Equal(t, "image/png", aws.StringValue(s3c.put.ContentType))
	assert.Equal(t, "png", string(s3c.buf))
}

func TestURI(t *testing.T) {
	assert.Equal(t, "s3://maps/latest.png", URI("maps", "/latest.png"))
	assert.Equal(t, "s3://maps/a/b.png", URI("maps", "a/b.png"))
}

func Test_getBucketAndKey(t *testing.T) {
	testCases := []struct {
		url     string
		bucket  string
		key     string
		wantErr bool
	}{
		{"s3://cwa-mirror/O-A0039-001.kmz", "cwa-mirror", "O-A0039-001.kmz", false},
		{"s3://maps/latest/lightning.png", "maps", "latest/lightning.png", false},
		{"s3://only-bucket", "", "", true},
		{"[invalid-url]:12345", "", "", true},
	}
	for _, tc := range testCases {
		bucket, key, err := getBucketAndKey(tc.url)
		if tc.wantErr {
			if bucket != "" || key != "" || err == nil {
				t.Errorf("getBucketAndKey(%q) was expected to fail but didn't", tc.url)
			}
			continue
		}
		if err != nil {
			t.Errorf("Unexpected error in getBucketAndKey: %s", err)
		}
		if bucket != tc.bucket {
			t.Errorf("Unexpected bucket - got: %s, want: %s", bucket, tc.bucket)
		}
		if key != tc.key {
			t.Errorf("Unexpected key - got: %s, want: %s", key, tc.key)
		}
	}
}
